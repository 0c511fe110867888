package protocol

// Request types (Client → Server)
const (
	TypeAuth           = "auth"
	TypeChatMessage    = "chat message"
	TypeRequestHistory = "request history"
	TypeClearHistory   = "clear history"
	TypeUpdateUsername = "update username"
	TypeQueryUsername  = "query username"
	TypeListDirectory  = "ls"
	TypeGetParent      = "get parent"
	TypeAddSubfolder   = "add subfolder"
	TypeRenameFile     = "rename file"
	TypeDeleteFile     = "delete file"
	TypeOpenFile       = "open file"
	TypeDownloadFile   = "download file"
	TypeUploadFile     = "upload file"

	// TypeBinary is synthesized by the server for binary chunk frames
	TypeBinary = "binary"
	// TypeInvalid is assigned to text frames that cannot be decoded
	TypeInvalid = "invalid"
)

// Reply types (Server → Client)
const (
	TypeAuthSuccess      = "auth success"
	TypeAuthFailure      = "auth failure"
	TypePromptUsername   = "prompt username"
	TypeError            = "error"
	TypeHistoryReply     = "history reply"
	TypeUsernameUpdate   = "username update"
	TypeDirectoryListing = "directory listing"
	TypeFileParent       = "file parent"
	TypeFilesUpdated     = "files updated"
)

// Field names
const (
	FieldType        = "type"
	FieldRequestID   = "request id"
	FieldReason      = "reason"
	FieldRequest     = "request"
	FieldAuthToken   = "auth_token"
	FieldText        = "text"
	FieldCategory    = "category"
	FieldDisplayName = "display name"
	FieldID          = "id"
	FieldName        = "name"
	FieldChunkCount  = "chunk count"
	FieldChunk       = "chunk"
	FieldData        = "data"
	FieldMessages    = "messages"
	FieldNodes       = "nodes"
	FieldChild       = "child"
	FieldParent      = "parent"
	FieldContent     = "content"
	FieldUUID        = "uuid"
)

// File types stored on file records
const (
	FileTypeDirectory = "directory"
	FileTypeImage     = "img"
	FileTypeText      = "txt"
	FileTypeRaw       = "raw"
)

// DefaultCategory is used for chat messages that do not name a category
const DefaultCategory = "ooc"
