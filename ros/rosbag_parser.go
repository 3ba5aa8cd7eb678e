// Package ros reads point cloud frames recorded in ROS bags.
package ros

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// openBag reads the index and chunks of a bag file.
func openBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open bag")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "malformed bag %q", filename)
	}
	return rb, nil
}

// forEachMessage decodes the messages recorded on topic, in recording order, and hands each
// one to fn. Iteration stops at the first error.
func forEachMessage(rb *rosbag.RosBag, topic string, fn func(i int, msg map[string]interface{}) error) error {
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return t == topic },
		false,
	); err != nil {
		return errors.Wrap(err, "cannot decode bag messages")
	}

	buf := rb.TopicsAsJSON[bagTopicKey(topic)]
	if buf == nil {
		return errors.Errorf("no messages on topic %q", topic)
	}
	for i := 0; ; i++ {
		line, err := buf.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		msg := map[string]interface{}{}
		if err := json.Unmarshal(line, &msg); err != nil {
			return errors.Wrapf(err, "message %d", i)
		}
		if err := fn(i, msg); err != nil {
			return errors.Wrapf(err, "message %d", i)
		}
	}
}

// bagTopicKey is the key gobag files the decoded messages of topic under.
func bagTopicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}
