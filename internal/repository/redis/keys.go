package redis

// Key layout, all under one prefix (default "mailqueue"):
//
//	{p}:job:{id}     hash with every job field
//	{p}:waiting      zset, score = rank (priority band + seq)
//	{p}:delayed      zset, score = run_at in unix ms
//	{p}:active       zset, score = lease expiry in unix ms
//	{p}:completed    zset, score = finished_at in unix ms
//	{p}:failed       zset, score = finished_at in unix ms
//	{p}:seq          insertion counter
type keys struct {
	prefix string
}

func (k keys) jobPrefix() string    { return k.prefix + ":job:" }
func (k keys) job(id string) string { return k.jobPrefix() + id }
func (k keys) waiting() string      { return k.prefix + ":waiting" }
func (k keys) delayed() string      { return k.prefix + ":delayed" }
func (k keys) active() string       { return k.prefix + ":active" }
func (k keys) completed() string    { return k.prefix + ":completed" }
func (k keys) failed() string       { return k.prefix + ":failed" }
func (k keys) seq() string          { return k.prefix + ":seq" }

// priorityBand spaces priorities far enough apart that seq never crosses
// into the next band. queue.Prepare bounds priorities to
// [queue.MinPriority, queue.MaxPriority], which keeps every score exactly
// representable as a float64.
const priorityBand = int64(1_000_000_000_000)

func rank(priority int, seq int64) int64 {
	return int64(priority)*priorityBand + seq
}
