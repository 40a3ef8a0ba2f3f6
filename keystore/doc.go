/*
Package keystore provides backends for the write-once key slot that anchors
a device identity.

A key store holds exactly one 32-byte secp256k1 scalar. It can be read any
number of times but written at most once per device lifetime; every backend
refuses a second write with interfaces.ErrAlreadyProvisioned.

# Backends

  - MemoryKeyStore: an in-process simulation of a one-time programmable fuse
    block. Counts writes, used by tests and by simulated devices.
  - FileKeyStore: a key file created exclusively with mode 0400. An optional
    passphrase seals the key in an argon2id / XChaCha20-Poly1305 envelope.
  - VaultKeyStore: a HashiCorp Vault KV v2 secret written with check-and-set
    version 0, so Vault itself rejects any overwrite.
  - S3KeyStore: an object in Amazon S3 (or a compatible service). Existence
    of the object gates the write.

# Location URIs

Backends are created from location URIs through the KeyStoreFactory:

	memory://
	memory://?key=<64 hex chars>
	file:///var/lib/dephy/device.key?passphrase_env=DEPHY_KEY_PASSPHRASE
	vault://vault.internal:8200/secret/dephy/device?token_env=VAULT_TOKEN&tls=true
	s3://bucket/devices/node-1?region=eu-west-1&endpoint=http://minio:9000&access_key_env=AK&secret_key_env=SK

Secrets are never embedded in a URI; the URI names the environment variable
holding them.

# Usage

	factory := keystore.NewKeyStoreFactory(logger)
	loc, err := interfaces.NewKeyStoreLocation("file:///var/lib/dephy/device.key")
	if err != nil {
		return err
	}
	ks, err := factory.KeyStoreFor(loc)
*/
package keystore
