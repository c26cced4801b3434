package ethrpc

import (
	"fmt"

	"github.com/tracefold/tracefold/internal/chain"
)

func decodeBatchCreated(lg rpcLog, data wordReader, evt *chain.Event) error {
	if len(lg.Topics) < 4 {
		return fmt.Errorf("batch created log needs 4 topics, got %d", len(lg.Topics))
	}
	batchID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	productID, err := topicUint(lg.Topics[2])
	if err != nil {
		return err
	}
	owner, err := topicAddress(lg.Topics[3])
	if err != nil {
		return err
	}
	quantity, err := data.uintWord(0)
	if err != nil {
		return fmt.Errorf("decode quantity: %w", err)
	}
	evt.BatchCreated = &chain.BatchCreated{
		BatchID:   batchID,
		ProductID: productID,
		Owner:     owner,
		Quantity:  quantity,
	}
	return nil
}

func decodeBatchTransferred(lg rpcLog, data wordReader, evt *chain.Event) error {
	if len(lg.Topics) < 4 {
		return fmt.Errorf("batch transferred log needs 4 topics, got %d", len(lg.Topics))
	}
	batchID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	from, err := topicAddress(lg.Topics[2])
	if err != nil {
		return err
	}
	to, err := topicAddress(lg.Topics[3])
	if err != nil {
		return err
	}
	location, err := data.stringAt(0, 0)
	if err != nil {
		return fmt.Errorf("decode location: %w", err)
	}
	evt.BatchTransferred = &chain.BatchTransferred{
		BatchID:  batchID,
		From:     from,
		To:       to,
		Location: location,
	}
	return nil
}

func decodeDocumentAttached(lg rpcLog, data wordReader, evt *chain.Event) error {
	if len(lg.Topics) < 3 {
		return fmt.Errorf("document attached log needs 3 topics, got %d", len(lg.Topics))
	}
	batchID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	attachedBy, err := topicAddress(lg.Topics[2])
	if err != nil {
		return err
	}
	contentCID, err := data.stringAt(0, 0)
	if err != nil {
		return fmt.Errorf("decode content cid: %w", err)
	}
	documentType, err := data.stringAt(1, 0)
	if err != nil {
		return fmt.Errorf("decode document type: %w", err)
	}
	evt.DocumentAttached = &chain.DocumentAttached{
		BatchID:      batchID,
		ContentCID:   contentCID,
		DocumentType: documentType,
		AttachedBy:   attachedBy,
	}
	return nil
}

func decodeSensorDataAnchored(lg rpcLog, data wordReader, evt *chain.Event) error {
	if len(lg.Topics) < 2 {
		return fmt.Errorf("sensor data log needs 2 topics, got %d", len(lg.Topics))
	}
	batchID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	dataHash, err := data.bytes32Word(0)
	if err != nil {
		return fmt.Errorf("decode data hash: %w", err)
	}
	temperature, err := data.intWord(1)
	if err != nil {
		return fmt.Errorf("decode temperature: %w", err)
	}
	humidity, err := data.uintWord(2)
	if err != nil {
		return fmt.Errorf("decode humidity: %w", err)
	}
	location, err := data.stringAt(3, 0)
	if err != nil {
		return fmt.Errorf("decode location: %w", err)
	}
	evt.SensorDataAnchored = &chain.SensorDataAnchored{
		BatchID:     batchID,
		DataHash:    dataHash,
		ReadingType: environmentalReading,
		Temperature: temperature,
		Humidity:    humidity,
		Location:    location,
	}
	return nil
}

func decodeBatchRecalled(lg rpcLog, data wordReader, evt *chain.Event) error {
	if len(lg.Topics) < 3 {
		return fmt.Errorf("batch recalled log needs 3 topics, got %d", len(lg.Topics))
	}
	batchID, err := topicUint(lg.Topics[1])
	if err != nil {
		return err
	}
	initiator, err := topicAddress(lg.Topics[2])
	if err != nil {
		return err
	}
	reason, err := data.stringAt(0, 0)
	if err != nil {
		return fmt.Errorf("decode recall reason: %w", err)
	}
	evt.BatchRecalled = &chain.BatchRecalled{
		BatchID:   batchID,
		Reason:    reason,
		Initiator: initiator,
	}
	return nil
}
