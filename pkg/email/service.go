package email

import (
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Service handles email sending
type Service struct {
	fromEmail   string
	fromName    string
	sendGridKey string
	useSendGrid bool
}

// NewService creates a new email service
// If sendGridAPIKey is provided, emails will be sent via SendGrid
// Otherwise, emails will be logged to console (development mode)
func NewService(fromEmail, fromName, sendGridAPIKey string) *Service {
	useSendGrid := sendGridAPIKey != ""
	if useSendGrid {
		log.Printf("✅ Email service initialized with SendGrid")
	} else {
		log.Printf("⚠️  Email service in console-only mode (set SENDGRID_API_KEY for production)")
	}

	return &Service{
		fromEmail:   fromEmail,
		fromName:    fromName,
		sendGridKey: sendGridAPIKey,
		useSendGrid: useSendGrid,
	}
}

// SendRewardEarnedEmail tells a referrer their referral converted and what
// they earned.
func (s *Service) SendRewardEarnedEmail(toEmail, toName, shopName string, amount float64, currency, couponCode string) error {
	subject := fmt.Sprintf("You earned a referral reward at %s!", shopName)

	reward := fmt.Sprintf("%.2f %s", amount, currency)
	if couponCode != "" {
		reward = fmt.Sprintf("a %s discount code: <strong>%s</strong>", fmt.Sprintf("%.2f %s", amount, currency), couponCode)
	}

	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>Your referral paid off!</h2>
			<p>Hi %s,</p>
			<p>Someone just placed an order at <strong>%s</strong> using your referral link.</p>
			<p>You earned %s.</p>
			<p>Keep sharing your link to earn more rewards.</p>
			<p>Thanks,<br>The %s Team</p>
		</body>
		</html>
	`, toName, shopName, reward, shopName)

	plainText := fmt.Sprintf(`
Hi %s,

Someone just placed an order at %s using your referral link.

You earned %.2f %s.
`, toName, shopName, amount, currency)
	if couponCode != "" {
		plainText += fmt.Sprintf("\nYour discount code: %s\n", couponCode)
	}
	plainText += fmt.Sprintf("\nKeep sharing your link to earn more rewards.\n\nThanks,\nThe %s Team\n", shopName)

	if s.useSendGrid {
		return s.sendViaSendGrid(toEmail, toName, subject, body, plainText)
	}

	// Development mode: log to console
	log.Printf("📧 [EMAIL] Reward notification to: %s <%s> (%.2f %s)", toName, toEmail, amount, currency)
	return nil
}

// SendCodeIssuedEmail sends a referrer their new referral code.
func (s *Service) SendCodeIssuedEmail(toEmail, toName, shopName, code string) error {
	subject := fmt.Sprintf("Your %s referral code is ready", shopName)
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>Your referral code is ready!</h2>
			<p>Hi %s,</p>
			<p>Share this code with friends and earn rewards every time they order at <strong>%s</strong>:</p>
			<p style="font-size: 24px; font-weight: bold; letter-spacing: 2px;">%s</p>
			<p>Thanks,<br>The %s Team</p>
		</body>
		</html>
	`, toName, shopName, code, shopName)

	plainText := fmt.Sprintf(`
Hi %s,

Share this code with friends and earn rewards every time they order at %s:

    %s

Thanks,
The %s Team
	`, toName, shopName, code, shopName)

	if s.useSendGrid {
		return s.sendViaSendGrid(toEmail, toName, subject, body, plainText)
	}

	// Development mode: log to console
	log.Printf("📧 [EMAIL] Referral code %s to: %s <%s>", code, toName, toEmail)
	return nil
}

// sendViaSendGrid sends email using SendGrid API
func (s *Service) sendViaSendGrid(toEmail, toName, subject, htmlBody, plainTextBody string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)

	message := mail.NewSingleEmail(from, subject, to, plainTextBody, htmlBody)

	client := sendgrid.NewSendClient(s.sendGridKey)
	response, err := client.Send(message)

	if err != nil {
		log.Printf("❌ SendGrid error: %v", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		log.Printf("❌ SendGrid returned error status %d: %s", response.StatusCode, response.Body)
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	log.Printf("✅ Email sent successfully to %s (SendGrid status: %d)", toEmail, response.StatusCode)
	return nil
}
