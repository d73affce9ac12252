// Package refresh runs the desk's refresh batches and the auto-refresh loop.
//
//   - RunTasks starts a fixed batch concurrently and settles every task
//   - Failures are per task; siblings always complete
//   - A TimerState holds at most one recurring loop
//   - Ticks are skipped while the previous one is still running
package refresh
