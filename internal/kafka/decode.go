package kafka

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafs3sink/pkg/sink"
)

// DecodeMessage converts a delivered Kafka message into a sink record.
// Values and keys are decoded as JSON where possible and fall back to raw
// bytes; headers decode the same way so numeric headers keep their
// canonical decimal form.
func DecodeMessage(msg *sarama.ConsumerMessage) sink.Record {
	record := sink.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Value:     decodeBytes(msg.Value),
		Key:       decodeBytes(msg.Key),
		Timestamp: msg.Timestamp,
	}

	for _, h := range msg.Headers {
		record.Headers = append(record.Headers, sink.Header{
			Name:  string(h.Key),
			Value: decodeBytes(h.Value),
		})
	}
	return record
}

// decodeBytes maps raw bytes onto the tagged value union.
func decodeBytes(raw []byte) sink.Value {
	if len(raw) == 0 {
		return sink.Null{}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed interface{}
	if err := dec.Decode(&parsed); err == nil && !dec.More() {
		return fromJSON(parsed)
	}

	if utf8.Valid(raw) {
		return sink.String{Value: string(raw)}
	}
	return sink.Bytes{Value: raw}
}

func fromJSON(v interface{}) sink.Value {
	switch tv := v.(type) {
	case nil:
		return sink.Null{}
	case bool:
		return sink.Bool{Value: tv}
	case string:
		return sink.String{Value: tv}
	case json.Number:
		if i, err := tv.Int64(); err == nil {
			return sink.Long{Value: i}
		}
		f, _ := tv.Float64()
		return sink.Double{Value: f}
	case map[string]interface{}:
		values := make(map[string]sink.Value, len(tv))
		for k, elem := range tv {
			values[k] = fromJSON(elem)
		}
		return &sink.Map{Values: values}
	case []interface{}:
		values := make([]sink.Value, len(tv))
		for i, elem := range tv {
			values[i] = fromJSON(elem)
		}
		return &sink.Array{Values: values}
	default:
		return sink.Null{}
	}
}
