// taskctl is a command-line client for asyncq: dispatch tasks, poll or wait
// for their state, fetch results, revoke them, and inspect queue depths.
package main

func main() {
	Execute()
}
