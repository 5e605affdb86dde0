// Package workspace manages access to the user-chosen storage root.
//
// The root is remembered as a reference file under the state directory.
// Access is re-established on every start by Initialize, which only queries
// the current permission. Granting permission is reserved for Reconnect and
// Setup, both of which demand a Gesture, the native stand-in for an explicit
// user action. When workspace.require_gesture is set a grant lasts for one
// boot session, so a reboot leaves the workspace waiting for
// `mediadesk workspace connect` while keeping every existing case intact.
package workspace
