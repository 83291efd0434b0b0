package dynamo

// DynamoDB attribute names used in keys and expressions across the repos.
const (
	fieldUserID       = "user_id"
	fieldType         = "type"
	fieldOwnerID      = "owner_id"
	fieldEnabled      = "enabled"
	fieldPasswordHash = "password_hash"
	fieldRoles        = "roles"
	fieldAvatar       = "avatar"
	fieldUpdatedAt    = "updated_at"
	fieldIssuedAt     = "issued_at"
	fieldPurgeAt      = "purge_at"
)

// Guard item key prefixes. Guard items share the users table and reserve a
// unique value for the user named by owner_id.
const (
	emailGuardPrefix    = "email#"
	usernameGuardPrefix = "username#"
)
