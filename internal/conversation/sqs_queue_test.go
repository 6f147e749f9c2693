package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []sqstypes.Message
	err      error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, f.err
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, f.err
}

func TestSQSQueue_FIFOSetsGroupAndDedup(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/turns.fifo")

	require.NoError(t, q.Send(context.Background(), "{}", "sess-1", "job-1"))
	require.NoError(t, q.Send(context.Background(), "{}", "", ""))

	require.Len(t, fake.sent, 2)
	assert.Equal(t, "sess-1", aws.ToString(fake.sent[0].MessageGroupId))
	assert.Equal(t, "job-1", aws.ToString(fake.sent[0].MessageDeduplicationId))
	assert.Equal(t, "default", aws.ToString(fake.sent[1].MessageGroupId))
	assert.Nil(t, fake.sent[1].MessageDeduplicationId)
}

func TestSQSQueue_StandardQueueOmitsGroup(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/turns")

	require.NoError(t, q.Send(context.Background(), "{}", "sess-1", "job-1"))
	assert.Nil(t, fake.sent[0].MessageGroupId)
	assert.Nil(t, fake.sent[0].MessageDeduplicationId)
}

func TestSQSQueue_ReceiveAndDelete(t *testing.T) {
	fake := &fakeSQS{messages: []sqstypes.Message{{
		MessageId:     aws.String("m1"),
		Body:          aws.String(`{"id":"job-1"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := NewSQSQueue(fake, "https://sqs.example/queue")

	msgs, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(context.Background(), ""))
	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	assert.Equal(t, []string{"rh-1"}, fake.deleted)
}

func TestSQSQueue_WrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	q := NewSQSQueue(&fakeSQS{err: boom}, "https://sqs.example/queue")

	assert.ErrorIs(t, q.Send(context.Background(), "{}", "s", "j"), boom)
	_, err := q.Receive(context.Background(), 1, 0)
	assert.ErrorIs(t, err, boom)
}
