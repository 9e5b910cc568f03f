package notifier

import (
	"testing"

	"fuelwatcher/internal/model"
)

func TestStateTopicLayout(t *testing.T) {
	n := &MQTTNotifier{opts: Options{TopicPrefix: "fuelwatcher"}}
	key := model.Key{Station: 21412, Fuel: model.FuelP98}

	if got := n.stateTopic(key); got != "fuelwatcher/sensor/21412/P98/state" {
		t.Fatalf("unexpected state topic %q", got)
	}
}
