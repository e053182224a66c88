package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/session"
)

const (
	// maxReplyLength 单条回复的长度上限（聊天平台限制 4096）
	maxReplyLength = 4000
	// historyPageSize 历史记录分页时每页条数
	historyPageSize = 20

	divider = "━━━━━━━━━━━━━━━━━━━━━━\n"
)

const (
	msgGenericError      = "❌ An error occurred. Please try again later."
	msgProvisionFailed   = "❌ Failed to generate email. Please try again later."
	msgDeleteFailed      = "❌ An error occurred during deletion. Please try again."
	msgSessionExpired    = "❌ Session expired. Please use /deletemail again."
	msgMailboxGone       = "❌ Email not found or already deleted."
	msgCancelled         = "❌ Deletion cancelled."
	msgNothingToCancel   = "ℹ️ Nothing to cancel."
	msgUnknownCommand    = "🤔 Unknown command. Use /start to see available commands."
	msgInvalidSelection  = "❌ *Invalid selection*\n\nPlease reply with a valid number or email address.\nUse /cancel to abort."
	msgNoHistory         = "📭 *No emails found*\n\nUse /newmail to create your first temporary email!"
	msgNothingToDelete   = "📭 *No emails to delete*\n\nUse /newmail to create an email first!"
	dateLayout           = "2006-01-02 15:04"
	statusActiveIcon     = "🟢"
	statusInactiveIcon   = "🔴"
	statusActiveLabel    = "Active"
	statusInactiveLabel  = "Inactive"
	selectionPromptTitle = "🗑️ *Select Email to Delete*\n"
)

func welcomeMessage(limit, historyLimit int) string {
	return fmt.Sprintf(`🌟 *Welcome to Temp Mail Bot!* 🌟

Generate temporary email addresses instantly. Perfect for:
• Signing up for services without spam
• Protecting your real email
• One-time verifications

📋 *Available Commands:*

/newmail - Generate a new temporary email
/history - View your last %d emails
/deletemail - Delete an email address
/start - Show this help message

%s💡 *Tips:*
• You can have up to %d active emails
• Oldest emails are auto-deleted when limit is reached
• Emails are unique and instantly active

Start by using /newmail to create your first email!`, historyLimit, divider, limit)
}

func evictedMessage(limit int, evicted *domain.Mailbox) string {
	return fmt.Sprintf("⚠️ *Mail limit reached (%d)*\n\nAuto-deleted oldest email:\n`%s`", limit, evicted.Email)
}

func createdMessage(result *domain.CreateResult) string {
	return fmt.Sprintf("✅ *New Email Created!*\n\n📧 `%s`\n\n_Tap to copy_\n\n📊 You have %d/%d emails",
		result.Mailbox.Email, result.ActiveCount, result.Limit)
}

func deletedMessage(mailbox *domain.Mailbox) string {
	return fmt.Sprintf("✅ *Email Deleted Successfully!*\n\n🗑️ `%s`\n\nThis email will no longer receive messages.", mailbox.Email)
}

func selectionMessage(s *session.Session) string {
	var b strings.Builder
	b.WriteString(selectionPromptTitle)
	b.WriteString(divider)
	b.WriteString("\nReply with the *number* or *email address*:\n\n")
	for _, entry := range s.Entries {
		fmt.Fprintf(&b, "%d. `%s`\n", entry.Ordinal, entry.Address)
	}
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("💡 Send /cancel to abort")
	return b.String()
}

// historyMessages 渲染历史记录，超过单条上限时按页拆分。
func historyMessages(mailboxes []domain.Mailbox) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Your Email History* (%d emails)\n", len(mailboxes))
	b.WriteString(divider)
	writeHistoryEntries(&b, mailboxes, 1)
	b.WriteString(divider)
	b.WriteString("💡 Use /deletemail to remove an email")

	full := b.String()
	if utf8.RuneCountInString(full) <= maxReplyLength {
		return []string{full}
	}

	pages := (len(mailboxes) + historyPageSize - 1) / historyPageSize
	replies := make([]string, 0, pages)
	for page := 0; page < pages; page++ {
		start := page * historyPageSize
		end := start + historyPageSize
		if end > len(mailboxes) {
			end = len(mailboxes)
		}

		var p strings.Builder
		fmt.Fprintf(&p, "📋 *Email History* (Page %d/%d)\n", page+1, pages)
		p.WriteString(divider)
		writeHistoryEntries(&p, mailboxes[start:end], start+1)
		replies = append(replies, strings.TrimRight(p.String(), "\n"))
	}
	return replies
}

func writeHistoryEntries(b *strings.Builder, mailboxes []domain.Mailbox, first int) {
	for i, mailbox := range mailboxes {
		icon, label := statusInactiveIcon, statusInactiveLabel
		if mailbox.IsActive {
			icon, label = statusActiveIcon, statusActiveLabel
		}
		fmt.Fprintf(b, "%d. %s `%s`\n   _%s • %s_\n\n",
			first+i, icon, mailbox.Email, label, mailbox.CreatedAt.Format(dateLayout))
	}
}
