package wallet

// Canonical store.Store keys the engine reads and writes. Kept as named
// constants rather than inline literals, matching the teacher's own
// persist package convention of centralizing bucket/key names in one file.
const (
	fieldEncryptedWallet    = "encrypted_wallet"
	fieldRemoteURL          = "remote_url"
	fieldRemoteCopy         = "remote_copy"
	fieldRemoteToken        = "remote_token"
	fieldRemoteHash         = "remote_hash"
	fieldRemoteCreatedDate  = "remote_created_date"
	fieldRemoteUpdatedDate  = "remote_updated_date"
)

// Reserved wallet object fields (§3.1).
const (
	objFieldChainID        = "chain_id"
	objFieldCreated         = "created"
	objFieldLastModified    = "last_modified"
	objFieldWeakPassword    = "weak_password"
	objFieldSchemaVersion   = "schema_version"
)

// SchemaVersion is the schema_version stamped on every wallet object this
// engine creates, and the ceiling SchemaIncompatible checks decrypted
// payloads against (only a higher major version is rejected).
const SchemaVersion = "1.0.0"
