// Package routines holds the site's automations. Each routine is an
// automation.Routine registering its triggers; All lists the ones the
// service installs at startup.
package routines
