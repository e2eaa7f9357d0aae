package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ppg-monitor/configs"
	"ppg-monitor/internal/database"
	"ppg-monitor/internal/handlers"
	"ppg-monitor/internal/inference"
)

// modelRuntime внешний коллаборатор среды исполнения моделей. Подключается
// адаптером конкретного рантайма на этапе сборки развертывания; без адаптера
// эндпоинты /models отвечают ошибкой загрузки.
var modelRuntime inference.ModelRuntime

func main() {
	log.Println(" === PPG MONITOR (rPPG Stream Processing) ===")

	// 1. Загрузка конфигурации
	cfg := configs.LoadConfig()
	log.Printf("Конфигурация загружена: DB=%s:%s, MQTT=%s, частота=%.0f Гц",
		cfg.Database.Host, cfg.Database.Port, cfg.MQTT.Broker, cfg.Pipeline.SamplingRateHz)

	// 2. Инициализация базы данных
	db, err := database.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Ошибка инициализации БД: %v", err)
	}
	defer database.CloseDatabase()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Ошибка миграций: %v", err)
	}

	// 3. Создание основных компонентов
	dataBuffer := handlers.NewDataBuffer(db)
	sessionManager := handlers.NewSessionManager(db, dataBuffer, cfg.Pipeline)
	streamHub := handlers.NewStreamHub()

	// 4. Создание процессора потоковых тиков
	mqttProcessor := handlers.NewMQTTStreamProcessor(
		sessionManager,
		streamHub,
		dataBuffer,
		cfg.Pipeline,
	)
	sessionManager.SetTickQuiescer(mqttProcessor)

	// 5. Движок инференса
	engine := inference.NewEngine(modelRuntime, cfg.Pipeline.ProbeWindow)

	// 6. Инициализация MQTT клиента
	mqttClient, err := initMQTTWithAuth(cfg.MQTT)
	if err != nil {
		log.Fatalf("Ошибка MQTT: %v", err)
	}
	defer mqttClient.Disconnect(250)

	// 7. Подписка на топики устройств
	messageHandler := func(client mqtt.Client, msg mqtt.Message) {
		mqttProcessor.HandleIncomingMQTT(msg.Topic(), msg.Payload())
	}

	topic := "medical/ppg/+/raw" // все устройства
	token := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Fatalf("Ошибка подписки MQTT: %v", token.Error())
	}

	log.Printf("MQTT клиент подключён к %s, топик: %s", cfg.MQTT.Broker, topic)

	// 8. Запуск REST API сервера
	restAPI := handlers.NewRESTAPIServer(sessionManager, streamHub, engine, cfg.Pipeline)
	router := restAPI.SetupRoutes()

	go func() {
		log.Printf("REST API Server запущен на :%s", cfg.App.Port)
		if err := http.ListenAndServe(":"+cfg.App.Port, router); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Ошибка HTTP сервера: %v", err)
		}
	}()

	log.Println("Сервис запущен → Ctrl+C для остановки")
	log.Println("Конвейер: MQTT → фильтр → WebSocket дисплей + буфер → PostgreSQL")
	log.Println("Инференс: сессия → пакетный фильтр → скользящее окно → агрегат")

	// 9. Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Graceful shutdown...")

	// Остановка компонентов в обратном порядке
	mqttProcessor.Stop()
	streamHub.Stop()
	dataBuffer.Stop()

	log.Println("Сервис полностью остановлен")
}

// initMQTTWithAuth инициализирует MQTT клиент с аутентификацией
func initMQTTWithAuth(mqttCfg configs.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(mqttCfg.Broker)
	opts.SetClientID(mqttCfg.ClientID)

	if mqttCfg.Username != "" && mqttCfg.Password != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
		log.Printf("MQTT аутентификация: пользователь %s", mqttCfg.Username)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = func(c mqtt.Client) {
		fmt.Println("MQTT подключен")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Printf("MQTT соединение потеряно: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT подключение не удалось: %w", token.Error())
	}

	return client, nil
}
