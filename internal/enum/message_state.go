package enum

type MessageState string

const (
	MessageStateFetched     MessageState = "FETCHED"
	MessageStateInserting   MessageState = "INSERTING"
	MessageStateInserted    MessageState = "INSERTED"
	MessageStateFailedRetry MessageState = "FAILED_RETRY"
	MessageStateFailedPerm  MessageState = "FAILED_PERM"
)

func (t MessageState) String() string {
	return string(t)
}
