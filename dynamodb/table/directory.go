package table

// Attribute names of the directory tables.
const (
	UserIDAttr    = "ID"
	ClaimOwner    = "owner_id"
	MetaUserAttr  = "user_id"
	MetaKeyAttr   = "meta_key"
	MetaValueAttr = "meta_value"
)

// ClaimPrefix marks login claim items in the users table. A claim item's ID is
// the prefix plus the login, and ClaimOwner holds the owning user's ID.
const ClaimPrefix = "login#"

// UsersTable holds user items and login claim items, both keyed by ID.
func UsersTable(name string) TableDefinition {
	return TableDefinition{
		Name: name,
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: KeyDef{Name: UserIDAttr, Kind: KeyKindS},
		},
	}
}

// MetaTable holds one item per user and metadata key.
func MetaTable(name string) TableDefinition {
	return TableDefinition{
		Name: name,
		KeyDefinitions: PrimaryKeyDefinition{
			PartitionKey: KeyDef{Name: MetaUserAttr, Kind: KeyKindS},
			SortKey:      KeyDef{Name: MetaKeyAttr, Kind: KeyKindS},
		},
	}
}
