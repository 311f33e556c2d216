package models

// Server settings stored in the metadata table.
const (
	MetaMaintenanceMode    = "maintenance_mode"
	MetaMaintenanceMessage = "maintenance_message"
	MetaCleanupActive      = "cleanup_active"
	MetaCleanupWeekdays    = "cleanup_weekdays"
	MetaCleanupTime        = "cleanup_time"
)

// MetaData is a server setting as a name/value pair.
type MetaData struct {
	ID    int64  `json:"id" goqu:"skipinsert,skipupdate" db:"metadata_id"`
	Name  string `json:"name" db:"metadata_name"`
	Value string `json:"value" db:"metadata_value"`
}
