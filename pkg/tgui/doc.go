// Package tgui provides small Telegram text helpers:
//   - Escaping and tag builders for ParseMode="HTML"
//   - Markdown (as produced by chat models) to Telegram HTML
//   - Splitting long replies into message-sized chunks
package tgui
