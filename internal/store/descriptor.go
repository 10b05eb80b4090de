package store

import (
	"fmt"
	"strings"
)

// Descriptor names the columns that differ between the message tables.
type Descriptor struct {
	Transport          Transport
	Table              string
	TypeColumn         string
	DateSentColumn     string
	DateReceivedColumn string
	SupportsViewed     bool
	HasAttachments     bool
}

var (
	TextDescriptor = Descriptor{
		Transport:          TransportText,
		Table:              "text_message",
		TypeColumn:         "type",
		DateSentColumn:     "date_sent",
		DateReceivedColumn: "date",
	}
	MediaDescriptor = Descriptor{
		Transport:          TransportMedia,
		Table:              "media_message",
		TypeColumn:         "msg_box",
		DateSentColumn:     "date",
		DateReceivedColumn: "date_received",
		SupportsViewed:     true,
		HasAttachments:     true,
	}
)

const projectionWidth = 18

// projection is one expression per harmonized column. Both tables project
// into the same fixed-size array, so a branch with the wrong arity does not
// compile.
type projection [projectionWidth]string

// unifiedColumns names the harmonized columns, in scan order.
var unifiedColumns = projection{
	"_id",
	"transport",
	"thread_id",
	"type",
	"body",
	"recipient_id",
	"date_sent",
	"date_received",
	"date_server",
	"read",
	"delivery_receipt_count",
	"read_receipt_count",
	"viewed_receipt_count",
	"receipt_timestamp",
	"expires_in",
	"expire_started",
	"mismatched_identities",
	"remote_deleted",
}

// attachmentsColumn follows the projection in every scanned row.
const attachmentsColumn = "attachments"

func (d Descriptor) projection() projection {
	viewed := "0"
	if d.SupportsViewed {
		viewed = "viewed_receipt_count"
	}
	return projection{
		"_id",
		fmt.Sprintf("'%s'", d.Transport),
		"thread_id",
		d.TypeColumn,
		"body",
		"recipient_id",
		d.DateSentColumn,
		d.DateReceivedColumn,
		"date_server",
		"read",
		"delivery_receipt_count",
		"read_receipt_count",
		viewed,
		"receipt_timestamp",
		"expires_in",
		"expire_started",
		"mismatched_identities",
		"remote_deleted",
	}
}

// selectList renders "expr AS name" pairs, optionally qualified by alias.
func (p projection) selectList(alias string, names projection) string {
	parts := make([]string, len(p))
	for i, expr := range p {
		if alias != "" && !strings.HasPrefix(expr, "'") && expr != "0" {
			expr = alias + "." + expr
		}
		parts[i] = expr + " AS " + names[i]
	}
	return strings.Join(parts, ", ")
}

// attachmentAggregate folds attachment rows into one JSON array per message.
const attachmentAggregate = `SELECT message_id, json_group_array(json_object(` +
	`'id', _id, 'content_type', content_type, 'file_name', file_name, 'size', size, 'data_ref', data_ref` +
	`)) AS attachments FROM attachment GROUP BY message_id`

// singleRowQuery selects one row of a single table in the harmonized shape.
func (d Descriptor) singleRowQuery(where string) string {
	attachments := "NULL"
	if d.HasAttachments {
		attachments = `(SELECT json_group_array(json_object(` +
			`'id', _id, 'content_type', content_type, 'file_name', file_name, 'size', size, 'data_ref', data_ref` +
			`)) FROM attachment WHERE attachment.message_id = m._id)`
	}
	return fmt.Sprintf("SELECT %s, %s AS %s FROM %s AS m WHERE %s",
		d.projection().selectList("m", unifiedColumns), attachments, attachmentsColumn, d.Table, where)
}

// unionInner combines the table projections and left-joins the attachment
// aggregate. The transport tag is a projected column, so it survives any
// wrapping query unchanged.
func unionInner(descs ...Descriptor) string {
	branches := make([]string, len(descs))
	for i, d := range descs {
		branches[i] = fmt.Sprintf("SELECT %s FROM %s", d.projection().selectList("", unifiedColumns), d.Table)
	}
	return fmt.Sprintf(
		"SELECT u.*, a.attachments AS %s FROM (%s) AS u LEFT JOIN (%s) AS a ON u.transport = '%s' AND a.message_id = u._id",
		attachmentsColumn, strings.Join(branches, " UNION ALL "), attachmentAggregate, TransportMedia)
}
