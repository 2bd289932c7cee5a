// Package netmon reports network reachability to the queue engine.
//
// Two monitors are provided. Manual holds a flag flipped explicitly (by the
// CLI over IPC or by tests). Auto probes connectivity with a Prober and
// re-probes whenever udev reports a network interface change over netlink, or
// when the poll interval elapses. Both publish a transition only when the
// reachability state actually changes.
package netmon
