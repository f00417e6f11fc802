package retrieve

import "github.com/dicomrouter/retrieve-core/pkg/dicomnet"

func newInternalError(op string, err error) error {
	return dicomnet.NewError(dicomnet.KindInternalError, op, err)
}

func newNoPresentationContext(op string, err error) error {
	return dicomnet.NewError(dicomnet.KindNoPresentationContext, op, err)
}

func newBadSequenceOfCalls(op string, err error) error {
	return dicomnet.NewError(dicomnet.KindBadSequenceOfCalls, op, err)
}
