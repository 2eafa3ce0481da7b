// Package filename implements ddmq's filename grammar: the encoding of
// priority, sequence number, and (for leased messages) expiry into a
// sortable on-disk name, and the parsing of that encoding back out.
package filename

import (
	"fmt"
	"strconv"
	"strings"
)

// Width is the fixed zero-padded width used for priority and sequence
// fields, so lexicographic filename order always matches numeric order
// regardless of how large either value grows.
const Width = 10

// tag separates the queue_number field from the message's id in a
// waiting filename: "<priority>.<seq>.ddmq<id>".
const tag = ".ddmq"

// Waiting is the parsed form of a waiting-queue filename.
type Waiting struct {
	Priority int
	Seq      int
	ID       string
}

// Leased is the parsed form of a work/-directory (leased) filename: the
// waiting filename with "<expiry>." prepended.
type Leased struct {
	Expiry int64
	Waiting
}

func pad(n int) string {
	return fmt.Sprintf("%0*d", Width, n)
}

// FormatWaiting builds the filename a newly published message is written
// under: "<priority>.<seq>.ddmq<id>".
func FormatWaiting(priority, seq int, id string) string {
	return fmt.Sprintf("%s.%s%s%s", pad(priority), pad(seq), tag, id)
}

// FormatLeased builds the filename a message is renamed to when leased:
// the expiry epoch second prepended to its waiting filename.
func FormatLeased(expiry int64, waitingName string) string {
	return fmt.Sprintf("%d.%s", expiry, waitingName)
}

// ParseWaiting parses a waiting-queue filename. It returns an error if name
// does not match the "<priority>.<seq>.ddmq<id>" grammar.
func ParseWaiting(name string) (Waiting, error) {
	idx := strings.Index(name, tag)
	if idx < 0 {
		return Waiting{}, fmt.Errorf("filename: %q is not a ddmq message file", name)
	}

	head := name[:idx]
	id := name[idx+len(tag):]
	if id == "" {
		return Waiting{}, fmt.Errorf("filename: %q has an empty id", name)
	}

	parts := strings.SplitN(head, ".", 2)
	if len(parts) != 2 {
		return Waiting{}, fmt.Errorf("filename: %q is missing priority/sequence fields", name)
	}

	priority, err := strconv.Atoi(parts[0])
	if err != nil {
		return Waiting{}, fmt.Errorf("filename: %q has a non-numeric priority: %w", name, err)
	}

	seq, err := strconv.Atoi(parts[1])
	if err != nil {
		return Waiting{}, fmt.Errorf("filename: %q has a non-numeric sequence: %w", name, err)
	}

	return Waiting{Priority: priority, Seq: seq, ID: id}, nil
}

// ParseLeased parses a work/-directory filename: "<expiry>.<priority>.<seq>.ddmq<id>".
func ParseLeased(name string) (Leased, error) {
	dot := strings.Index(name, ".")
	if dot < 0 {
		return Leased{}, fmt.Errorf("filename: %q is missing an expiry field", name)
	}

	expiry, err := strconv.ParseInt(name[:dot], 10, 64)
	if err != nil {
		return Leased{}, fmt.Errorf("filename: %q has a non-numeric expiry: %w", name, err)
	}

	w, err := ParseWaiting(name[dot+1:])
	if err != nil {
		return Leased{}, err
	}

	return Leased{Expiry: expiry, Waiting: w}, nil
}

// IsDdmqFile reports whether name contains the message-file tag at all,
// cheaper than a full parse for filtering directory listings.
func IsDdmqFile(name string) bool {
	return strings.Contains(name, tag)
}
