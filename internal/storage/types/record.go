package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one stored fault event. Records are immutable once written;
// corrections are made by ingesting a new record.
type Record struct {
	// Identity
	Seq int64     // Authoritative ingestion order, strictly increasing per store
	ID  uuid.UUID // Stable external identifier

	// Origin
	ProcessID int32 // May be negative for synthetic records
	UserID    int32
	Module    string // Owning application or component

	// Classification
	Category  Category
	Timestamp int64 // Seconds since epoch; descriptive only, never an order key

	// Content
	Reason  string
	Summary string
	FullLog string
}

// Time returns the record timestamp as a time.Time.
func (r *Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// Handle returns the index reference for r stored at loc.
func (r *Record) Handle(loc Location) Handle {
	return Handle{
		Seq:       r.Seq,
		Category:  r.Category,
		ProcessID: r.ProcessID,
		UserID:    r.UserID,
		Module:    r.Module,
		Timestamp: r.Timestamp,
		Location:  loc,
	}
}

// LogName returns the report file name for the record:
// <type>-<module>-<uid>-<YYYYmmddHHMMSS><ms>.log
func (r *Record) LogName() string {
	return logName(r.Category, r.Module, r.UserID, r.Timestamp)
}

// logName formats the report file name in local time. Timestamps have
// second resolution, so the millisecond field is always "000" and two
// records of one owner written within the same second share a name.
func logName(cat Category, module string, uid int32, ts int64) string {
	return fmt.Sprintf("%s-%s-%d-%s000.log",
		cat.FileName(),
		RegulateModuleName(module),
		uid,
		time.Unix(ts, 0).Format("20060102150405"))
}

// RegulateModuleName strips any path prefix from a module name.
func RegulateModuleName(module string) string {
	if i := strings.LastIndex(module, "/"); i >= 0 {
		return module[i+1:]
	}
	return module
}

// Location addresses a record inside the write-ahead log.
type Location struct {
	Segment int64 // Segment sequence number
	Offset  int64 // Byte offset of the record header within the segment
}

// String returns a compact representation of the location.
func (l Location) String() string {
	return fmt.Sprintf("%016d@%d", l.Segment, l.Offset)
}

// Handle is the index entry for a stored record. It carries the metadata
// needed for filtering and retention so that queries only touch the log
// body of records they actually return.
type Handle struct {
	Seq       int64
	Category  Category
	ProcessID int32
	UserID    int32
	Module    string
	Timestamp int64
	Location  Location
}

// LogName returns the report file name of the record h refers to.
func (h Handle) LogName() string {
	return logName(h.Category, h.Module, h.UserID, h.Timestamp)
}

// Owned reports whether the handle belongs to the given caller identity.
func (h Handle) Owned(userID int32, module string) bool {
	return h.UserID == userID && h.Module == module
}
