/*
Package supervisor manages the lifecycle of a single local sidecar process: an opaque backend binary that serves HTTP on a fixed loopback port and exposes a health endpoint.

A Supervisor is created once by the hosting application and shared by every caller that needs the sidecar. It tracks at most one child process at a time.

The lifecycle proceeds as follows:

1. New resolves the sidecar executable (see Locate). The path is never re-resolved.
2. Start kills any same-named processes left over from earlier runs, checks that the port is free and that the executable exists, then spawns it with stdout and stderr captured.
3. WaitReady polls the health endpoint every 200ms until it answers with a 2xx status or the timeout elapses.
4. IsRunning and Status report on the tracked process without blocking.
5. Stop kills the tracked process (and its descendants where the platform supports that), reaps it, and sweeps for orphaned instances by name. Close is the same as Stop and is meant to be deferred by the host.

Restart composes Stop, a bounded wait for the port to be released, Start and WaitReady.

Start and WaitReady return errors wrapping ErrPortInUse, ErrExecutableNotFound, ErrSpawnFailed or ErrStartupTimeout. Stop never fails; anything that goes wrong while killing processes is logged.
*/
package supervisor
