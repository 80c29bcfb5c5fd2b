// Package tgui holds small Telegram UI helpers: inline keyboards, callback
// data in the "scope:action:payload" form, and HTML escaping for
// ParseMode=HTML messages.
package tgui
