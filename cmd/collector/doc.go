/*
Command collector serves the DePHY ingest endpoint.

It verifies signed messages posted by sensor nodes, rate limits each sender,
and archives accepted messages in a SQLite database that can be queried
over the same API.

Usage:

	collector --listen-addr 127.0.0.1:8080 --archive-dsn ./collector.db
*/
package main
