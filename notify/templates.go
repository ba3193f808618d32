package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

const timeLayout = "2006-01-02 15:04:05 MST"

type alertData struct {
	Hours        string
	LastActivity string
	AlertTime    string
}

type recoveryData struct {
	RecoveryTime string
}

type testData struct {
	Server     string
	Port       int
	Sender     string
	Recipients string
	Encryption string
	TestTime   string
}

var alertHTML = htmltemplate.Must(htmltemplate.New("alert").Parse(`<html>
  <body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <div style="background-color: #dc3545; color: white; padding: 20px; border-radius: 5px 5px 0 0;">
      <h1 style="margin: 0;">Bot Inactivity Alert</h1>
    </div>
    <div style="background-color: #f8f9fa; padding: 20px; border: 1px solid #dee2e6;">
      <h2 style="color: #dc3545; margin-top: 0;">Discord Archiver Has Been Inactive</h2>
      <p>The archiver has not processed any message for <strong>{{.Hours}} hours</strong>.</p>
      <div style="background-color: white; padding: 15px; border-left: 4px solid #dc3545; margin: 20px 0;">
        <p><strong>Last Activity:</strong> {{.LastActivity}}</p>
        <p><strong>Alert Time:</strong> {{.AlertTime}}</p>
        <p><strong>Inactive Duration:</strong> {{.Hours}} hours</p>
      </div>
      <h3>Possible Issues:</h3>
      <ul>
        <li>Bot process may have crashed or stopped</li>
        <li>Discord connection may be interrupted</li>
        <li>No messages in monitored channels</li>
        <li>Network connectivity issues</li>
        <li>Discord token may have expired</li>
      </ul>
      <h3>Recommended Actions:</h3>
      <ol>
        <li>Check if the bot process is running</li>
        <li>Review bot logs for errors</li>
        <li>Verify Discord connection status</li>
        <li>Restart the bot if necessary</li>
        <li>Check Discord token validity</li>
      </ol>
    </div>
    <div style="background-color: #343a40; color: white; padding: 15px; text-align: center;">
      <p style="margin: 0; font-size: 14px;">This is an automated alert from the Discord archive monitor</p>
    </div>
  </body>
</html>`))

var alertText = texttemplate.Must(texttemplate.New("alert").Parse(`DISCORD ARCHIVER INACTIVITY ALERT

The archiver has not processed any message for {{.Hours}} hours.

DETAILS:
- Last Activity: {{.LastActivity}}
- Alert Time: {{.AlertTime}}
- Inactive Duration: {{.Hours}} hours

POSSIBLE ISSUES:
- Bot process may have crashed or stopped
- Discord connection may be interrupted
- No messages in monitored channels
- Network connectivity issues
- Discord token may have expired

RECOMMENDED ACTIONS:
1. Check if the bot process is running
2. Review bot logs for errors
3. Verify Discord connection status
4. Restart the bot if necessary
5. Check Discord token validity

---
This is an automated alert from the Discord archive monitor
`))

var recoveryHTML = htmltemplate.Must(htmltemplate.New("recovery").Parse(`<html>
  <body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
    <div style="background-color: #28a745; color: white; padding: 20px; border-radius: 5px 5px 0 0;">
      <h1 style="margin: 0;">Bot Activity Resumed</h1>
    </div>
    <div style="background-color: #f8f9fa; padding: 20px; border: 1px solid #dee2e6;">
      <h2 style="color: #28a745; margin-top: 0;">Discord Archiver is Active Again</h2>
      <p>The archiver has resumed processing messages.</p>
      <p><strong>Recovery Time:</strong> {{.RecoveryTime}}</p>
      <p><strong>Status:</strong> Active and processing messages</p>
    </div>
  </body>
</html>`))

var recoveryText = texttemplate.Must(texttemplate.New("recovery").Parse(`DISCORD ARCHIVER ACTIVITY RESUMED

The archiver has resumed processing messages.

- Recovery Time: {{.RecoveryTime}}
- Status: Active and processing messages
`))

var testText = texttemplate.Must(texttemplate.New("test").Parse(`This is a test email from the Discord archive monitor.

Configuration:
- SMTP Server: {{.Server}}:{{.Port}}
- Sender: {{.Sender}}
- Recipients: {{.Recipients}}
- Encryption: {{.Encryption}}

If you received this email, notifications are configured correctly.

Test Time: {{.TestTime}}
`))

// Mail is a rendered message. HTML is optional.
type Mail struct {
	Subject string
	Text    string
	HTML    string
}

func formatHours(d time.Duration) string {
	return fmt.Sprintf("%.1f", d.Hours())
}

// RenderInactivityAlert renders the alert for an inactivity of since. last may be nil.
func RenderInactivityAlert(since time.Duration, last *time.Time, now time.Time) (Mail, error) {
	data := alertData{
		Hours:        formatHours(since),
		LastActivity: "Unknown",
		AlertTime:    now.Format(timeLayout),
	}
	if last != nil {
		data.LastActivity = last.Format(timeLayout)
	}
	text, err := renderText(alertText, data)
	if err != nil {
		return Mail{}, err
	}
	html, err := renderHTML(alertHTML, data)
	if err != nil {
		return Mail{}, err
	}
	return Mail{
		Subject: fmt.Sprintf("Discord Bot Inactivity Alert - %s hours", data.Hours),
		Text:    text,
		HTML:    html,
	}, nil
}

func RenderRecovery(now time.Time) (Mail, error) {
	data := recoveryData{RecoveryTime: now.Format(timeLayout)}
	text, err := renderText(recoveryText, data)
	if err != nil {
		return Mail{}, err
	}
	html, err := renderHTML(recoveryHTML, data)
	if err != nil {
		return Mail{}, err
	}
	return Mail{Subject: "Discord Bot Activity Resumed", Text: text, HTML: html}, nil
}

func RenderTest(server string, port int, sender string, recipients []string, useTLS bool, now time.Time) (Mail, error) {
	encryption := "SSL"
	if useTLS {
		encryption = "TLS"
	}
	text, err := renderText(testText, testData{
		Server:     server,
		Port:       port,
		Sender:     sender,
		Recipients: strings.Join(recipients, ", "),
		Encryption: encryption,
		TestTime:   now.Format(timeLayout),
	})
	if err != nil {
		return Mail{}, err
	}
	return Mail{Subject: "Discord Bot Email Notification Test", Text: text}, nil
}

func renderText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func renderHTML(t *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
