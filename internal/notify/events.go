package notify

import (
	"fmt"
	"strings"
	"time"
)

// Event kinds emitted by the lifecycle engine.
const (
	EventSignatureRequest      = "signature_request"
	EventQuizLink              = "quiz_link"
	EventSignatureCompleted    = "signature_completed"
	EventCompletedNotification = "signature_completed_notification"
	EventQuizFailed            = "quiz_failed"
	EventScheduledCleanup      = "scheduled_cleanup"
)

// DisplayName derives a readable name from an email's local part
// ("jane.doe@example.com" becomes "Jane Doe").
func DisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.NewReplacer(".", " ", "_", " ").Replace(local)
	words := strings.Fields(local)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return email
	}
	return strings.Join(words, " ")
}

// SignatureRequestEvent is the initial email asking the receiver to
// review and sign the document.
func SignatureRequestEvent(trackingID, senderName, senderEmail, receiverEmail, documentTitle, purpose, signingLink string) Event {
	receiverName := DisplayName(receiverEmail)

	html := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<p>Dear %s,</p>
<p>As part of our review process, we need your acknowledgment of the <strong>%s</strong>.</p>
<p>Could you please review the document to ensure you understand our policies? Your acknowledgment is essential to ensure compliance.</p>
<p><strong>Purpose:</strong><br>%s</p>
<div style="margin: 30px 0; text-align: center;">
<a href="%s" style="display: inline-block; padding: 14px 28px; background-color: #2563eb; color: white; text-decoration: none; border-radius: 6px; font-weight: 600;">Sign Document</a>
</div>
<p style="color: #666; font-size: 14px;">If the button above doesn't work, copy this link into your browser:<br><a href="%s">%s</a></p>
<p>Best regards,<br><strong>%s</strong><br>%s</p>
</div>`,
		receiverName, documentTitle, purpose, signingLink, signingLink, signingLink, senderName, senderEmail)

	text := fmt.Sprintf(`Dear %s,

As part of our review process, we need your acknowledgment of the %s.

Could you please review the document to ensure you understand our policies? Your acknowledgment is essential to ensure compliance.

Purpose: %s

Sign Document: %s

Best regards,
%s
%s`, receiverName, documentTitle, purpose, signingLink, senderName, senderEmail)

	return Event{
		EventType:   EventSignatureRequest,
		To:          receiverEmail,
		FromName:    senderName,
		FromEmail:   senderEmail,
		Subject:     "Action Required: " + documentTitle,
		Body:        text,
		BodyHTML:    html,
		SigningLink: signingLink,
		TrackingID:  trackingID,
	}
}

// QuizLinkEvent asks the receiver to complete the comprehension quiz
// after acknowledging.
func QuizLinkEvent(quizID, receiverEmail, documentTitle, quizLink string) Event {
	receiverName := DisplayName(receiverEmail)

	html := fmt.Sprintf(`<p>Dear %s,</p>
<p>Thank you for acknowledging the <strong>%s</strong>.</p>
<p>To complete the signature process, please take a short quiz to verify your understanding of the document.</p>
<p style="margin-top: 20px;"><a href="%s" style="display: inline-block; padding: 12px 24px; background-color: #8b5cf6; color: white; text-decoration: none; border-radius: 6px; font-weight: 600;">Take Quiz</a></p>
<p style="color: #666; font-size: 12px;">This quiz contains 3 questions and all must be answered correctly.</p>
<p style="color: #666; font-size: 12px; margin-top: 20px;">Quiz link: %s</p>`,
		receiverName, documentTitle, quizLink, quizLink)

	text := fmt.Sprintf(`Dear %s,

Thank you for acknowledging the %s.

To complete the signature process, please take a short quiz to verify your understanding:

Take Quiz: %s

This quiz contains 3 questions and all must be answered correctly.`, receiverName, documentTitle, quizLink)

	return Event{
		EventType: EventQuizLink,
		To:        receiverEmail,
		Subject:   "Quiz Required: " + documentTitle,
		Body:      text,
		BodyHTML:  html,
		QuizLink:  quizLink,
		QuizID:    quizID,
	}
}

// CompletionEvent congratulates the receiver after a passing submission.
func CompletionEvent(receiverEmail, documentTitle string) Event {
	receiverName := DisplayName(receiverEmail)

	html := fmt.Sprintf(`<div style="text-align: center; padding: 20px;">
<h2 style="color: #10b981;">Success!</h2>
<p>Congratulations %s,</p>
<p>You have successfully signed and verified your understanding of:</p>
<p><strong>%s</strong></p>
<p style="margin-top: 20px; color: #666;">Your signature has been recorded and confirmed.</p>
</div>`, receiverName, documentTitle)

	text := fmt.Sprintf(`Success!

Congratulations %s,

You have successfully signed and verified your understanding of:
%s

Your signature has been recorded and confirmed.`, receiverName, documentTitle)

	return Event{
		EventType: EventSignatureCompleted,
		To:        receiverEmail,
		Subject:   "Successfully Signed: " + documentTitle,
		Body:      text,
		BodyHTML:  html,
	}
}

// SenderCompletionEvent tells the sender the workflow finished.
func SenderCompletionEvent(senderEmail, receiverEmail, documentTitle, appURL string) Event {
	senderName := DisplayName(senderEmail)
	receiverName := DisplayName(receiverEmail)

	html := fmt.Sprintf(`<p>Hello %s,</p>
<p>Good news! <strong>%s</strong> (%s) has successfully:</p>
<ul>
<li>Signed the document: <strong>%s</strong></li>
<li>Passed the knowledge verification quiz</li>
</ul>
<p>The signature process is now complete.</p>
<p style="color: #666; font-size: 12px; margin-top: 20px;">View all signatures at: <a href="%s">%s</a></p>`,
		senderName, receiverName, receiverEmail, documentTitle, appURL, appURL)

	text := fmt.Sprintf(`Hello %s,

Good news! %s (%s) has successfully:
- Signed the document: %s
- Passed the knowledge verification quiz

The signature process is now complete.

View all signatures at: %s`, senderName, receiverName, receiverEmail, documentTitle, appURL)

	return Event{
		EventType: EventCompletedNotification,
		To:        senderEmail,
		Subject:   "Document Signed: " + documentTitle,
		Body:      text,
		BodyHTML:  html,
	}
}

// QuizFailedEvent tells the receiver the quiz was not passed and links
// to a retake.
func QuizFailedEvent(receiverEmail, documentTitle, quizLink string) Event {
	receiverName := DisplayName(receiverEmail)

	html := fmt.Sprintf(`<div style="text-align: center; padding: 20px;">
<h2 style="color: #ef4444;">Quiz Not Passed</h2>
<p>Hello %s,</p>
<p>Unfortunately, you did not pass the verification quiz for:</p>
<p><strong>%s</strong></p>
<p style="margin-top: 20px;">Please review the document again and retake the quiz.</p>
<p style="margin-top: 20px;"><a href="%s" style="display: inline-block; padding: 12px 24px; background-color: #ef4444; color: white; text-decoration: none; border-radius: 6px; font-weight: 600;">Retake Quiz</a></p>
</div>`, receiverName, documentTitle, quizLink)

	text := fmt.Sprintf(`Quiz Not Passed

Hello %s,

Unfortunately, you did not pass the verification quiz for:
%s

Please review the document again and retake the quiz.

Try again at: %s`, receiverName, documentTitle, quizLink)

	return Event{
		EventType: EventQuizFailed,
		To:        receiverEmail,
		Subject:   "Quiz Failed: " + documentTitle,
		Body:      text,
		BodyHTML:  html,
		QuizLink:  quizLink,
	}
}

// ScheduledCleanupEvent reports the nightly purge result.
func ScheduledCleanupEvent(data any, at time.Time) Event {
	return Event{
		EventType: EventScheduledCleanup,
		Message:   "Nightly data cleanup completed",
		Data:      data,
		Timestamp: at.Format(time.RFC3339),
	}
}
