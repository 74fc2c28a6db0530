// Package authapi exposes eduplay's account and session endpoints over HTTP:
// registration, login, logout, the current principal, password changes and
// supervisor -> child account links. When an invite service is configured
// admins can also hand out registration invites.
//
// Every credential or session failure is reported as the same 401 so the
// API does not reveal which part of a login was wrong.
package authapi
