package handler

// The registration flow talks to the user through a Notifier and a
// Navigator. Over HTTP both side effects collapse into the response:
// the notification becomes the message field, the navigation becomes a
// redirect target the client follows. These adapters capture the single
// notification and destination a submission produces.

// notificationKind distinguishes the two toast flavors.
type notificationKind int

const (
	notifySuccess notificationKind = iota
	notifyError
)

// responseNotifier records the one notification a terminal outcome
// emits. count lets tests (and a paranoid handler) assert the
// exactly-one property.
type responseNotifier struct {
	kind    notificationKind
	message string
	count   int
}

func (n *responseNotifier) Success(message string) {
	n.kind = notifySuccess
	n.message = message
	n.count++
}

func (n *responseNotifier) Error(message string) {
	n.kind = notifyError
	n.message = message
	n.count++
}

// responseNavigator records the post-success destination.
type responseNavigator struct {
	target string
}

func (n *responseNavigator) NavigateTo(path string) {
	n.target = path
}
