// Reclaim - mark-and-sweep garbage collection for cloud infrastructure.
// Discover. Mark. Sweep.
package main

func main() {
	Execute()
}
