// Package security describes the effective security posture of a configured
// engine. The report is derived from configuration only and holds no key
// material.
package security
