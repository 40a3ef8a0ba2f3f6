/*
Command node runs a DePHY sensor node.

On first boot the node waits out its entropy window, generates a device key
and writes it once to the configured key slot. Every later boot reads the
same key. With an identity in hand it runs three tasks: telemetry
publishing, the uptime beacon, and connectivity upkeep. When any task ends
the whole group is restarted after a short delay.

Usage:

	node [global options] run [--config FILE] [--keystore URI] [--endpoint URL] [--device-name NAME]
	node [global options] inspect [--keystore URI]
	node [global options] address [--keystore URI]

Key slot URIs:

	memory://?key=<hex>                        volatile, for tests
	file:///var/lib/dephy/device.key           raw key file, written once with mode 0400
	file:///path?passphrase_env=DEPHY_PASS     argon2id sealed key file
	vault://host:8200/secret/dephy/device      Vault KV v2, check-and-set write
	s3://bucket/prefix?region=us-east-1        S3 object, written once

The run command prints one JSON status line to stdout every ten seconds
while the key is held, e.g.

	{"device_name":"DePHY_0a1b2c3d4e5f","pubkey_hex":"02...","addr_hex":"0x..."}
*/
package main
