package action

// Registry resolves action names to handlers.
type Registry struct {
	notifyUser Handler
	sendMail   Handler
	sendSMS    Handler
}

func NewRegistry(notifyUser, sendMail, sendSMS Handler) *Registry {
	return &Registry{notifyUser: notifyUser, sendMail: sendMail, sendSMS: sendSMS}
}

// Resolve fails with an error matching ErrUnknownAction for names outside
// the closed set.
func (r *Registry) Resolve(name string) (Handler, error) {
	a, err := ParseAction(name)
	if err != nil {
		return nil, err
	}
	switch a {
	case NotifyUser:
		return r.notifyUser, nil
	case SendMail:
		return r.sendMail, nil
	case SendSMS:
		return r.sendSMS, nil
	}
	return nil, &UnknownActionError{Name: name}
}
