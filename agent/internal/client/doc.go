// Package client is the observer side of probewatch-server: it pulls the
// resume payload and history over REST and follows the /ws/stream push
// channel. probectl is its only user.
//
// View folds the stream back into a full picture. A resume message replaces
// it, update messages carry only the rows that changed and are merged by
// identity, and complete marks the session terminal.
package client
