package orchestrator

// TrackedRetries returns how many failed executions still hold a retry in the dedupe map.
func (o *Orchestrator) TrackedRetries() int {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()

	return len(o.retries)
}
