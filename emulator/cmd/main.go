package main

// Эмулятор rPPG устройства: публикует синтетический сигнал пульсовой волны в
// MQTT так же, как это делало бы реальное устройство с камерой. Удобен для
// локальной разработки без железа.

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ppg-monitor/internal/models"
	synth "ppg-monitor/internal/signal"
)

var mqttClient mqtt.Client

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	fmt.Println("✓ Подключение к MQTT брокеру установлено")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	fmt.Printf("Соединение с MQTT брокером потеряно: %v\n", err)
}

func initMQTTClient(broker string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("ppg-device-%d", time.Now().Unix()))
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler
	mqttClient = mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ошибка подключения к MQTT: %v", token.Error())
	}
	return nil
}

func publishSample(topic string, sample models.RawSample) error {
	jsonData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("ошибка сериализации JSON: %v", err)
	}
	token := mqttClient.Publish(topic, 1, false, jsonData)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("таймаут отправки MQTT")
	}
	return token.Error()
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "адрес MQTT брокера")
	deviceID := flag.String("device", "PPG-CAM-001", "идентификатор устройства")
	rateHz := flag.Float64("rate", 30.0, "частота дискретизации, Гц")
	hrBPM := flag.Float64("hr", 72.0, "целевая ЧСС синтетического сигнала")
	noise := flag.Float64("noise", 0.3, "амплитуда шума")
	flag.Parse()

	if err := initMQTTClient(*broker); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer mqttClient.Disconnect(250)

	topic := fmt.Sprintf("medical/ppg/%s/raw", *deviceID)
	gen := synth.NewGenerator(*rateHz, *hrBPM, *noise, time.Now().UnixNano())

	log.Printf("Эмулятор запущен: устройство %s, %.0f Гц, ЧСС %.0f → %s",
		*deviceID, *rateHz, *hrBPM, topic)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rateHz))
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	start := time.Now()
	sent := 0

	for {
		select {
		case <-ticker.C:
			sample := models.RawSample{
				DeviceID: *deviceID,
				Value:    gen.Next(),
				TimeSec:  time.Since(start).Seconds(),
				Status:   models.SampleStatusOK,
			}
			if err := publishSample(topic, sample); err != nil {
				log.Printf("⚠️ Ошибка публикации: %v", err)
				continue
			}
			sent++
			if sent%300 == 0 {
				log.Printf("Отправлено %d отсчетов", sent)
			}
		case <-sigChan:
			log.Printf("Эмулятор остановлен, отправлено %d отсчетов", sent)
			return
		}
	}
}
