// Package lifecycle starts the game client, finds it in the process table,
// and tears the run down.
//
// Teardown has two independent halves, each guarded so it runs once no matter
// how many paths request it:
//
//	completion ──┬──→ Terminate(pid)      kill the client; gone is fine
//	             └──→ DetachSession(s)    remove probes, free the ring buffer
//
//	cancel ─────────→ DetachSession(s)    the client keeps running
package lifecycle
