// Package compiler checks an intent against its mandate and, when every
// constraint holds, reserves the daily risk budget and asks the selected
// protocol adapter for the calls that realise it.
package compiler
