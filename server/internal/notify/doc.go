// Package notify tells external systems that a probe session has finished.
// Each configured webhook receives one message per session, formatted for
// Slack, Teams, or as a plain JSON body for generic HTTP targets.
package notify
