// Bastion is an embeddable security engine: identity, multi-factor
// authentication, sessions, policy evaluation, key management, and
// compliance auditing. This binary runs it standalone with the
// observability HTTP surface.
package main

import "github.com/bastion-core/bastion/cmd/bastion/cmd"

func main() {
	cmd.Execute()
}
