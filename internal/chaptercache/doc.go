// Package chaptercache coordinates caching of manga chapters into published
// articles.
//
// A Job fetches every page of one chapter in order, relays it into an Article
// and finishes in exactly one of two terminal states. The Registry keeps at
// most one in-flight Job per chapter ID so concurrent requests share work, and
// the Notifier throttles progress edits to one per window.
package chaptercache
