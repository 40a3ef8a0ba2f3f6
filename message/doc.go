// Package message implements the canonical binary encoding of the two wire
// records exchanged by sensor nodes and their peers.
//
// The encoding is the protobuf (proto3) wire format of the schema
//
//	message RawMessage {
//	  uint64 timestamp = 1;
//	  bytes from_address = 2;
//	  bytes to_address = 3;
//	  bool encrypted = 4;
//	  bytes payload = 5;
//	  optional bytes iv = 6;
//	  optional bytes w3b = 7;
//	}
//
//	message SignedMessage {
//	  bytes raw = 1;
//	  bytes hash = 2;
//	  uint64 nonce = 3;
//	  bytes signature = 4;
//	  optional bytes last_edge_addr = 5;
//	}
//
// Encoding is deterministic because the encoded RawMessage bytes are hashed
// and signed; decoders skip unknown fields for forward compatibility.
package message
