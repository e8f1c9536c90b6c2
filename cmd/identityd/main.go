// Command identityd runs the identity core as a service: the login and
// directory HTTP API, the outbox dispatcher, the retention job and the
// directory consumer.
//
//	identityd migrate
//	identityd keygen --out signing.pem
//	identityd principal create --tenant acme --email root@acme.io --role Owner
//	identityd serve
//	identityd outbox flagged
//	identityd outbox requeue <event-id>
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
