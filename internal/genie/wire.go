package genie

// Message states reported by the Genie API. Anything not terminal is still in progress.
const (
	stateCompleted          = "COMPLETED"
	stateFailed             = "FAILED"
	stateCancelled          = "CANCELLED"
	stateQueryResultExpired = "QUERY_RESULT_EXPIRED"
)

// Statement states of a query result.
const (
	statementSucceeded = "SUCCEEDED"
	statementPending   = "PENDING"
	statementRunning   = "RUNNING"
)

type createMessageRequest struct {
	Content string `json:"content"`
}

type startConversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Conversation   *conversation `json:"conversation,omitempty"`
	Message        *message      `json:"message,omitempty"`
}

type conversation struct {
	ID string `json:"id"`
}

type message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Status         string       `json:"status"`
	Attachments    []attachment `json:"attachments"`
	Error          *messageErr  `json:"error,omitempty"`
}

type messageErr struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

type attachment struct {
	AttachmentID string          `json:"attachment_id"`
	Text         *textAttachment `json:"text,omitempty"`
	Query        *queryPayload   `json:"query,omitempty"`
}

type textAttachment struct {
	Content string `json:"content"`
}

type queryPayload struct {
	Query       string `json:"query"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StatementID string `json:"statement_id"`
}

type queryResultResponse struct {
	StatementResponse statementResponse `json:"statement_response"`
}

type statementResponse struct {
	StatementID string `json:"statement_id"`
	Status      struct {
		State string `json:"state"`
		Error *struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"status"`
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name     string `json:"name"`
				TypeName string `json:"type_name"`
				Position int    `json:"position"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
	Result struct {
		DataArray [][]any `json:"data_array"`
	} `json:"result"`
}

type listSpacesResponse struct {
	Spaces        []spaceJSON `json:"spaces"`
	NextPageToken string      `json:"next_page_token"`
}

type spaceJSON struct {
	SpaceID     string `json:"space_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}
