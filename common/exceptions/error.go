package exceptions

import (
	"errors"
	"fmt"
)

type Handler interface {
	HandleError(err error)
}

type HandlerFunc func(err error)

func (f HandlerFunc) HandleError(err error) {
	f(err)
}

type Exception interface {
	error
	Cause() error
}

func New(message ...any) error {
	return errors.New(fmt.Sprint(message...))
}

func Cause(cause error, message ...any) error {
	if cause == nil {
		panic("cause on an nil error")
	}
	return &causeError{fmt.Sprint(message...), cause}
}

func Extend(cause error, message ...any) error {
	if cause == nil {
		panic("extend on an nil error")
	}
	return &extendedError{fmt.Sprint(message...), cause}
}
