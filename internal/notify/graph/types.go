package graph

import "github.com/V3R0N1C4/MailSystem/internal/notify"

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

type graphMessage struct {
	Subject      string         `json:"subject"`
	Body         graphBody      `json:"body"`
	ToRecipients []graphAddress `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newSendMailRequest(n notify.Notice) sendMailRequest {
	var to graphAddress
	to.EmailAddress.Address = n.Forward

	return sendMailRequest{
		Message: graphMessage{
			Subject:      n.Subject(),
			Body:         graphBody{ContentType: "Text", Content: n.Text()},
			ToRecipients: []graphAddress{to},
		},
	}
}
