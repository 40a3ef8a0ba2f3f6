/*
Package node assembles a sensor node from its parts and runs it.

A node runs three peer tasks in one group:

  - telemetry: the publish policy, signing and delivering sensor readings
  - beacon: the status advertisement, "uptime: N" once per second
  - connectivity: NTP resync and link maintenance

The first task to return, with or without an error, cancels the other two
and ends the group. Supervise then waits a fixed delay and boots a fresh
group, standing in for the device reboot of the hardware build.

The device identity is established before the group starts and is shared
read-only by every task.
*/
package node
