// Package rate implements the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:<tenant>:<identifier>  login per tenant and identifier
//   - ali:<ip>                  login per IP
//
// A principal is locked out after MaxLoginAttempts failures inside the
// cooldown window; CheckLogin then fails before any password is verified.
package rate
