/*
Package supervisor runs the tinyIoT server and a fleet of simulators as
child processes.

Startup is strictly ordered: the server is launched and polled until its
CSE root answers, then each simulator is launched in fleet order and must
print its readiness marker before the next one starts. The first simulator
that fails or stays silent aborts startup.

	server ──healthy──▶ sim[0] ──ready──▶ sim[1] ──ready──▶ ... ──▶ running
	   │                  │                 │
	   └─timeout──────────┴──failed─────────┴──────────────▶ teardown

Once running, the fleet is polled until the server exits, every simulator
has exited, or the context is cancelled. Teardown always terminates the
remaining simulators before the server, escalating to SIGKILL after a
grace period.
*/
package supervisor
