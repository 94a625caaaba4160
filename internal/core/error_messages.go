package core

// error_messages.go maps technical errors to messages a user can act on.
//
// Every message carries a code that can be quoted when reporting a problem:
//
//	FILE001 file too large        FILE002 invalid csv
//	FILE003 invalid archive       FILE004 no file provided
//	FILE005 empty file            FILE006 output file not found
//	ARC001  no table in archive   ARC002  archive member not found
//	ARC003  member not selected   ARC004  upload is not an archive
//	VAL005  column not found
//	UPL002  too many uploads      UPL003  session not found
//	UPL004  request cancelled     UPL005  request timed out
//	UPL006  session busy
//	RATE001 rate limited
//	ERR000  anything else, check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains against the
// error text and the first match wins, so specific patterns come first.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Archive
	{
		pattern: "no table found in archive",
		msg: UserMessage{
			Message: "The archive does not contain any CSV table",
			Action:  "Upload a zip that contains at least one .csv file",
			Code:    "ARC001",
		},
	},
	{
		pattern: "archive member not found",
		msg: UserMessage{
			Message: "The chosen table is not in the archive",
			Action:  "Pick one of the tables listed for this upload",
			Code:    "ARC002",
		},
	},
	{
		pattern: "archive member not selected",
		msg: UserMessage{
			Message: "The archive contains several tables",
			Action:  "Choose which table to process first",
			Code:    "ARC003",
		},
	},
	{
		pattern: "upload is not an archive",
		msg: UserMessage{
			Message: "This upload is a single table",
			Action:  "Go straight to choosing columns",
			Code:    "ARC004",
		},
	},

	// File
	{
		pattern: "invalid archive",
		msg: UserMessage{
			Message: "The zip file could not be read",
			Action:  "Check that the archive is complete and not password protected",
			Code:    "FILE003",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Compress the table into a zip or upload a smaller file",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "The table could not be parsed",
			Action:  "Ensure the file is ';'-separated with a header row and consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or zip file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row",
			Code:    "FILE005",
		},
	},
	{
		pattern: "output file not found",
		msg: UserMessage{
			Message: "That output file is not available",
			Action:  "Process the table again to regenerate it",
			Code:    "FILE006",
		},
	},

	// Validation
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "A selected column is not in the table header",
			Action:  "Choose columns from the list shown for this file",
			Code:    "VAL005",
		},
	},

	// Upload and session
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Upload session not found",
			Action:  "The upload may have expired. Please upload the file again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "already processing",
		msg: UserMessage{
			Message: "This upload is already being processed",
			Action:  "Wait for the current run to finish",
			Code:    "UPL006",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or select fewer columns",
			Code:    "UPL005",
		},
	},

	// Throttling
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a known pattern, meaning its
// technical text is safe and useful to show as detail.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
