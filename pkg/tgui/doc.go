// Package tgui builds Telegram HTML (ParseMode="HTML") safely: plain text is
// escaped on the way in and H values are treated as already-safe markup.
package tgui
